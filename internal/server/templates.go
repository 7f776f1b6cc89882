package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/signin.html
var signinPageTemplateHTML string

//go:embed templates/signout.html
var signoutPageTemplateHTML string

//go:embed templates/error.html
var errorPageTemplateHTML string

//go:embed templates/verify_request.html
var verifyRequestPageTemplateHTML string

var signinPageTemplate = template.Must(template.New("signin").Parse(signinPageTemplateHTML))
var signoutPageTemplate = template.Must(template.New("signout").Parse(signoutPageTemplateHTML))
var errorPageTemplate = template.Must(template.New("error").Parse(errorPageTemplateHTML))
var verifyRequestPageTemplate = template.Must(template.New("verify_request").Parse(verifyRequestPageTemplateHTML))
