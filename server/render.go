package server

import (
	"encoding/json"
	"html/template"
	"net/http"

	"deckauth/protocol"
)

type popupPageView struct {
	Title        string
	Message      protocol.Message
	TargetOrigin string
	CloseAfterMS int
}

// The message and origin sit in a script context, where html/template
// emits them as JSON literals.
var popupPageTemplate = template.Must(template.New("popupPage").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<script>
  (function () {
    var message = {{.Message}};
    if (window.opener) {
      window.opener.postMessage(message, {{.TargetOrigin}});
    }
    {{if .CloseAfterMS}}setTimeout(function () { window.close(); }, {{.CloseAfterMS}});{{else}}window.close();{{end}}
  })();
</script>
{{if .Message.Error}}<p>Sign-in failed: {{.Message.Error}}</p>
<p>This window will close automatically.</p>{{else}}<p>Signed in. This window will close automatically.</p>{{end}}
</body>
</html>
`))

func (a *App) renderSuccess(w http.ResponseWriter, token string, profile protocol.Profile) {
	if a.Config.Server.ResponseMode == ResponseModeHTML {
		a.renderPopupPage(w, popupPageView{
			Title:   "Signing in...",
			Message: protocol.LoginSuccess(token, profile),
		})
		return
	}
	writeJSONStatus(w, http.StatusOK, protocol.Result{Success: true, Token: token, Profile: &profile})
}

func (a *App) renderFailure(w http.ResponseWriter, err error) {
	msg := publicMessage(err)
	if a.Config.Server.ResponseMode == ResponseModeHTML {
		a.renderPopupPage(w, popupPageView{
			Title:        "Sign-in failed",
			Message:      protocol.LoginError(msg),
			CloseAfterMS: 3000,
		})
		return
	}
	writeJSONStatus(w, statusFor(err), protocol.Result{Error: msg})
}

func (a *App) renderPopupPage(w http.ResponseWriter, view popupPageView) {
	view.TargetOrigin = a.Config.Server.AppOrigin
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := popupPageTemplate.Execute(w, view); err != nil {
		a.Logger.Error("popup page render", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the bare {"error": ...} shape used before a login
// attempt begins.
func writeError(w http.ResponseWriter, err error) {
	writeJSONStatus(w, statusFor(err), map[string]string{"error": publicMessage(err)})
}
