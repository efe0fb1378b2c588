package htmlpreview

// pageTemplate 与 PDF modern 模板保持一致的页面结构：
// A4 宽度、居中页眉、主色分区标题，以及 stacked/grid/inline 三种布局。
const pageTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        :root {
            --primary: {{.Colors.Primary}};
            --secondary: {{.Colors.Secondary}};
            --border: {{.Colors.Border}};
            --muted: {{.Colors.Muted}};
            --text: {{.Colors.Text}};
            --background: {{.Colors.Background}};
        }
        * { box-sizing: border-box; }
        body {
            margin: 0;
            background: #f3f4f6;
            font-family: {{.FontStack}};
            font-size: {{.FontSizePt}}pt;
            color: var(--text);
        }
        .a4-page {
            width: 794px; /* A4 @ 96 DPI */
            min-height: 1123px;
            margin: 0 auto;
            padding: 53px 64px;
            background: var(--background);
        }
        header { text-align: center; margin-bottom: 21px; }
        header img { width: 96px; height: 96px; border-radius: 50%; object-fit: cover; }
        header h1 { margin: 0; color: var(--primary); font-size: {{.NameSizePt}}pt; }
        header .job-title { margin: 2px 0 0; color: var(--secondary); font-size: {{.TitleSizePt}}pt; }
        header .details { display: flex; flex-wrap: wrap; justify-content: center; gap: 4px 13px; margin-top: 6px; color: var(--muted); }
        section { margin-bottom: 21px; }
        section h2 {
            margin: 0 0 10px;
            padding-bottom: 3px;
            border-bottom: 2px solid var(--primary);
            color: var(--primary);
            font-size: {{.SectionSizePt}}pt;
            text-transform: uppercase;
        }
        .layout-stacked > .item + .item { margin-top: 5px; }
        .layout-grid { display: grid; gap: 5px 16px; }
        .layout-inline { display: flex; flex-wrap: wrap; gap: 5px 13px; align-items: center; }
        .item { line-height: 1.35; overflow-wrap: anywhere; }
        .item-heading { font-weight: 700; font-size: 1.2em; }
        .item-sub-heading { font-weight: 700; font-size: 1.1em; color: var(--secondary); }
        .item-bullet, .item-number { display: flex; gap: 8px; }
        .item-bullet .marker, .item-number .marker { color: var(--primary); min-width: 10px; }
        .item-date, .item-date-range { font-style: italic; color: var(--muted); }
        .item-location, .item-email, .item-phone { color: var(--muted); }
        .item-tag { display: inline-block; padding: 3px 8px; background: var(--border); font-size: 0.9em; }
        .item-link a, .item-social a { color: var(--primary); text-decoration: none; }
        .item-separator hr { border: 0; border-top: 1px solid var(--border); margin: 5px 0; }
        .rating { display: flex; align-items: center; gap: 10px; }
        .rating .marks { display: inline-flex; gap: 3px; color: var(--primary); }
        .rating .dot { width: 9px; height: 9px; border-radius: 50%; border: 1px solid var(--primary); }
        .rating .dot.on { background: var(--primary); }
        .rating .bar { width: 107px; height: 5px; background: var(--border); }
        .rating .bar span { display: block; height: 100%; background: var(--primary); }
        a { color: inherit; }
    </style>
</head>
<body>
<div class="a4-page" id="resume-root">
    <header>
        {{if .Photo}}<img src="{{.Photo}}" alt="{{.Labels.Image}}">{{end}}
        {{if .Name}}<h1>{{.Name}}</h1>{{end}}
        {{if .JobTitle}}<p class="job-title">{{.JobTitle}}</p>{{end}}
        {{if .Details}}
        <div class="details">
            {{range .Details}}
            <span class="item item-{{.Type}}" data-item-id="{{.ID}}"{{if .Aria}} aria-label="{{.Aria}}"{{end}}>{{if .Href}}<a href="{{.Href}}">{{.Text}}</a>{{else}}{{.Text}}{{end}}</span>
            {{end}}
        </div>
        {{end}}
    </header>
    {{range .Sections}}
    <section data-section-id="{{.ID}}">
        <h2>{{.Title}}</h2>
        <div class="layout-{{.Layout}}"{{if eq .Layout "grid"}} style="grid-template-columns: repeat({{.Columns}}, minmax(0, 1fr))"{{end}}>
            {{range .Items}}{{template "item" .}}{{end}}
        </div>
    </section>
    {{end}}
</div>
</body>
</html>
{{define "item"}}
<div class="item item-{{.Type}}" data-item-id="{{.ID}}"{{if .Aria}} aria-label="{{.Aria}}"{{end}}>
    {{- if .Marker}}<span class="marker">{{.Marker}}</span><span>{{.Text}}</span>
    {{- else if eq .Type "separator"}}<hr>
    {{- else if .Rating}}{{with .Rating}}<div class="rating"><span>{{.Label}}</span>
        {{- if eq .Display "bar"}}<div class="bar"><span style="width: {{.Percent}}%"></span></div>
        {{- else if eq .Display "dots"}}<span class="marks">{{range .Marks}}<span class="dot{{if .}} on{{end}}"></span>{{end}}</span>
        {{- else}}<span class="marks">{{range .Marks}}{{if .}}&#9733;{{else}}&#9734;{{end}}{{end}}</span>{{end}}</div>{{end}}
    {{- else if .Href}}<a href="{{.Href}}">{{.Text}}</a>
    {{- else}}{{.Text}}{{end -}}
</div>
{{end}}`
