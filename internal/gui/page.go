package gui

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Cellpose to ONNX Converter</title>
<style>
body { background: #000; color: #fff; font-family: sans-serif; margin: 2em; }
label { display: inline-block; width: 10em; }
input[type=text] { width: 32em; margin: 0.3em 0; }
#browser { display: none; border: 1px solid #666; padding: 0.5em; margin-top: 1em; max-height: 20em; overflow-y: auto; }
#browser a { color: #9cf; cursor: pointer; display: block; }
</style>
</head>
<body>
<form id="form">
  <div><label for="model_path">Model Path:</label>
    <input type="text" id="model_path" name="model_path">
    <button type="button" onclick="browse('model_path', false)">Browse</button></div>
  <div><label for="output_directory">Output Directory:</label>
    <input type="text" id="output_directory" name="output_directory" value="{{.OutputDir}}">
    <button type="button" onclick="browse('output_directory', true)">Browse</button></div>
  <div><label for="mean_diameter">Mean Diameter:</label>
    <input type="text" id="mean_diameter" name="mean_diameter"></div>
  <div><button type="submit">Convert</button></div>
</form>
<div id="browser"></div>
<script>
const startDir = {{.BrowseDir}};
let target = null, wantDir = false;

function browse(field, dirs) {
  target = field; wantDir = dirs;
  list(document.getElementById(field).value || startDir);
}

async function list(path) {
  const resp = await fetch('/browse?path=' + encodeURIComponent(path));
  const data = await resp.json();
  const box = document.getElementById('browser');
  if (!resp.ok) { alert(data.error); return; }
  box.innerHTML = '';
  const add = (text, fn) => { const a = document.createElement('a'); a.textContent = text; a.onclick = fn; box.appendChild(a); };
  add('..', () => list(data.parent));
  if (wantDir) add('[use ' + data.path + ']', () => pick(data.path));
  for (const e of data.entries) {
    add(e.dir ? e.name + '/' : e.name, () => e.dir ? list(e.path) : (!wantDir && pick(e.path)));
  }
  box.style.display = 'block';
}

function pick(path) {
  document.getElementById(target).value = path;
  document.getElementById('browser').style.display = 'none';
}

document.getElementById('form').onsubmit = async (ev) => {
  ev.preventDefault();
  const resp = await fetch('/convert', { method: 'POST', body: new URLSearchParams(new FormData(ev.target)) });
  const dialog = await resp.json();
  alert((dialog.level === 'error' ? 'Error: ' : '') + dialog.message);
};
</script>
</body>
</html>
`
