package report

// reportHTML is the audit report template. Kept deliberately dependency-free
// so reports open anywhere.
const reportHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>De-identification Report {{.Result.BatchID}}</title>
<style>
body { font-family: -apple-system, Segoe UI, sans-serif; margin: 2rem; color: #222; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.35rem 0.7rem; text-align: left; }
th { background: #f4f4f4; }
.pass { color: #0a7d32; }
.fail { color: #b00020; }
.note { background: #fff6d6; padding: 0.5rem 1rem; border: 1px solid #e0cc6a; }
</style>
</head>
<body>
<h1>De-identification Audit Report</h1>
{{if .Note}}<p class="note">{{.Note}}</p>{{end}}
<p>Batch <code>{{.Result.BatchID}}</code>, session <code>{{.Result.SessionID}}</code>, generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

<h2>Processing Summary</h2>
<table>
<tr><th>Items</th><td>{{len .Result.Items}}</td></tr>
<tr><th>Successes</th><td>{{.Result.Successes}}</td></tr>
<tr><th>Failures</th><td>{{.Result.Failures}}</td></tr>
<tr><th>Identifiers processed</th><td>{{.Result.Statistics.IdentifiersProcessed}}</td></tr>
<tr><th>Fields modified</th><td>{{.Result.Statistics.FieldsModified}}</td></tr>
<tr><th>Dates shifted</th><td>{{.Result.Statistics.DatesShifted}}</td></tr>
<tr><th>Unique subjects</th><td>{{.Result.UniqueSubjects}}</td></tr>
<tr><th>Mappings</th><td>{{.Result.MappingCount}}</td></tr>
<tr><th>Duration</th><td>{{.Result.Duration}}</td></tr>
<tr><th>Compliance</th><td class="{{if eq .Result.Compliance.Status "compliant"}}pass{{else}}fail{{end}}">{{.Result.Compliance.Status}}</td></tr>
</table>

<h2>Identifiers by Category</h2>
<table>
<tr><th>Category</th><th>Count</th></tr>
{{range .Categories}}<tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>
{{end}}</table>

<h2>Compliance Checklist</h2>
<table>
<tr><th>#</th><th>Category</th><th>Occurrences</th><th>Residual</th><th>Status</th></tr>
{{range .Result.Compliance.Checklist}}<tr>
<td>{{.SafeHarborNumber}}</td><td>{{.Category}}</td><td>{{.Occurrences}}</td><td>{{.Residual}}</td>
<td class="{{if .Satisfied}}pass{{else}}fail{{end}}">{{if .Satisfied}}satisfied{{else}}not satisfied{{end}}</td>
</tr>
{{end}}</table>

{{if .Result.Risk}}
<h2>Re-identification Risk (advisory)</h2>
<table>
<tr><th>Method</th><td>{{.Result.Risk.Method}}</td></tr>
<tr><th>Score</th><td>{{printf "%.4f" .Result.Risk.Score}}</td></tr>
<tr><th>Equivalence classes</th><td>{{.Result.Risk.EquivalenceClasses}}</td></tr>
<tr><th>Smallest class</th><td>{{.Result.Risk.MinClassSize}}</td></tr>
<tr><th>Confidence</th><td>{{.Result.Risk.Confidence}}</td></tr>
</table>
{{end}}

<h2>Items</h2>
<table>
<tr><th>Item</th><th>Status</th><th>Detail</th></tr>
{{range .Result.Items}}<tr>
<td>{{.Item}}</td>
<td class="{{if .Success}}pass{{else}}fail{{end}}">{{if .Success}}success{{else}}failed{{end}}</td>
<td>{{.Error}}</td>
</tr>
{{end}}</table>
</body>
</html>
`
