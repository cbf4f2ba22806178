package llamachat

import "embed"

// TemplateFS contains the HTML templates of the chat view, split into layouts, pages and partials.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the stylesheet and script of the chat view.
//
//go:embed static/*
var StaticFS embed.FS
