package web

import (
	stderrors "errors"
	"html/template"
	"net/http"

	"github.com/wippyai/wasm-bridge/value"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

var errorPage = template.Must(template.New("error").Parse(`
<html>
  <head>
    <title>{{.Status}} | {{.StatusText}}</title>
    <style>
      body {
        display: flex;
        justify-content: center;
        align-items: center;
        min-height: 100vh;
        overflow: hidden;
      }
      h1 {
        font-size: 3rem;
        text-align: center;
        font-family: monospace;
        overflow-wrap: break-word;
        max-width: 90vw;
      }
    </style>
  </head>
  <body>
    <h1>{{.Message}} | {{.Status}}</h1>
  </body>
</html>
`))

type errorView struct {
	Status     int
	StatusText string
	Message    string
}

// describe extracts a status and message from err. Values thrown by the
// guest are inspected for statusCode, status or code and for message or
// description.
func describe(err error) (int, string) {
	status, msg := 0, ""

	var sc StatusCoder
	if stderrors.As(err, &sc) {
		status = sc.StatusCode()
	}
	var rej *value.Rejection
	if stderrors.As(err, &rej) {
		if obj, ok := rej.Reason.(*value.Object); ok {
			for _, k := range []string{"statusCode", "status", "code"} {
				if n, ok := obj.Get(k).(value.Number); ok && status == 0 {
					status = int(n)
				}
			}
			for _, k := range []string{"message", "description"} {
				if s, ok := obj.Get(k).(value.String); ok && msg == "" {
					msg = string(s)
				}
			}
		}
	}
	var ve *value.Error
	if msg == "" && stderrors.As(err, &ve) {
		msg = ve.Message
	}
	if msg == "" {
		msg = err.Error()
	}
	if msg == "" {
		msg = "Something went wrong"
	}
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return status, msg
}

// writeError renders the error page and returns the status written.
func writeError(w http.ResponseWriter, err error) int {
	status, msg := describe(err)
	text := http.StatusText(status)
	if text == "" {
		text = "Error"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	errorPage.Execute(w, errorView{Status: status, StatusText: text, Message: msg}) //nolint:errcheck
	return status
}
