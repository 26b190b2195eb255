// Package gui serves the converter form: model path, output directory and
// mean diameter fields with a Convert button, as a local web page.
//
// Conversions run in the request handler, one at a time, and their outcome
// is returned as a Dialog for the page to display.
package gui
