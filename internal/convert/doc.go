// Package convert exports Cellpose weights files as ONNX models.
//
// Converter handles one weights file. Service adds what the entry points
// share: diameter validation, output directory creation and conversion of
// the whole model catalog.
package convert
