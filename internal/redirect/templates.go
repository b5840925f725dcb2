package redirect

import "html/template"

var successTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html><head><title>oidc-agent</title></head>
<body>
<h1>Login Successful</h1>
<p>You have successfully logged in for state {{.}}. You may close this window.</p>
</body></html>
`))

var codeExchangeFailedTemplate = template.Must(template.New("code-exchange-failed").Parse(`<!DOCTYPE html>
<html><head><title>oidc-agent</title></head>
<body>
<h1>Login Failed</h1>
<p>The authorization code could not be exchanged for a token: {{.}}</p>
</body></html>
`))

var wrongStateTemplate = template.Must(template.New("wrong-state").Parse(`<!DOCTYPE html>
<html><head><title>oidc-agent</title></head>
<body>
<h1>Wrong State</h1>
<p>The state parameter received does not match the expected value. This request is ignored.</p>
</body></html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><title>oidc-agent</title></head>
<body>
<h1>Error</h1>
<p>The identity provider reported an error: {{.}}</p>
</body></html>
`))

var noCodeTemplate = template.Must(template.New("no-code").Parse(`<!DOCTYPE html>
<html><head><title>oidc-agent</title></head>
<body>
<h1>No Code</h1>
<p>No authorization code or error was present in the callback request.</p>
</body></html>
`))
