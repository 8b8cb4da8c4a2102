package web

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

// Field is one editable config setting on the tuner form.
type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

func configFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

// Handler for the config form: view and update the settings for the next
// training run.
func (s *Server) configPage(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	fields := configFields(s.Conf)
	s.Unlock()
	s.renderConfig(w, fields)
}

// Handler for the config form save action. Values are applied with the
// reflect based setters, invalid entries are flagged on the form and
// nothing is saved.
func (s *Server) configSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logError(w, err)
		return
	}
	s.Lock()
	conf := s.Conf
	fields := configFields(conf)
	haveErrors := false
	var err error
	for i, fld := range fields {
		val := r.Form.Get(fld.Name)
		if fld.Boolean {
			fields[i].On = val == "true"
			conf, err = conf.SetBool(fld.Name, fields[i].On)
		} else {
			fields[i].Value = val
			conf, err = conf.SetString(fld.Name, val)
		}
		if err != nil {
			fields[i].Error = "invalid syntax"
			haveErrors = true
		}
	}
	if !haveErrors {
		s.Conf = conf
	}
	s.Unlock()
	if haveErrors {
		s.renderConfig(w, fields)
		return
	}
	if err := conf.Save(s.Model + ".net"); err != nil {
		logError(w, err)
		return
	}
	http.Redirect(w, r, "/config", http.StatusFound)
}

func (s *Server) renderConfig(w http.ResponseWriter, fields []Field) {
	err := configTmpl.Execute(w, struct {
		Model  string
		Fields []Field
	}{s.Model, fields})
	if err != nil {
		logError(w, err)
	}
}

var configTmpl = template.Must(template.New("config").Parse(`<!doctype html>
<html><head><title>{{.Model}} config</title></head>
<body>
<h2>{{.Model}} config</h2>
<p><a href="/">back</a></p>
<form method="post" action="/config/save">
<table cellpadding="4">
{{range .Fields}}<tr><td>{{.Name}}</td><td>
{{if .Boolean}}<input type="checkbox" name="{{.Name}}" value="true"{{if .On}} checked{{end}}>
{{else}}<input type="text" name="{{.Name}}" value="{{.Value}}">
{{end}}</td><td>{{.Error}}</td></tr>
{{end}}
</table>
<p><input type="submit" value="save"></p>
</form>
</body></html>
`))
