package convert

import (
	"bytes"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/gosimple/slug"

	"imgspan/config"
)

// Values is a struct that holds variables we make available for template expansion
type Values struct {
	Context    string
	Source     string
	SourceFile string
	Host       string
	Container  string
	Date       string
}

func newValues(name config.TemplateFieldName, src, container string) Values {
	v := Values{
		Context:    string(name),
		Source:     src,
		SourceFile: documentName(src),
		Container:  container,
		Date:       time.Now().Format("2006-01-02"),
	}
	if u, err := url.Parse(src); err == nil && len(u.Scheme) > 1 {
		v.Host = u.Hostname()
	}
	return v
}

func expandTemplate(name config.TemplateFieldName, field string, values Values) (string, error) {
	tmpl, err := template.New(string(name)).Funcs(sprig.FuncMap()).Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", name, err)
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// outputName returns relative path of the document created in destination
// directory, without extension.
func outputName(src string, cfg *config.RenderConfig) (string, error) {
	if cfg.OutputNameTemplate == "" {
		return cleanPathSegment(documentName(src), cfg), nil
	}

	expanded, err := expandTemplate(config.OutputNameTemplateFieldName, cfg.OutputNameTemplate,
		newValues(config.OutputNameTemplateFieldName, src, cfg.Container))
	if err != nil {
		return "", err
	}

	var segments []string
	for s := range strings.SplitSeq(filepath.ToSlash(expanded), "/") {
		if s = strings.TrimSpace(s); s == "" || s == "." || s == ".." {
			continue
		}
		segments = append(segments, cleanPathSegment(s, cfg))
	}
	return filepath.Join(segments...), nil
}

func cleanPathSegment(segment string, cfg *config.RenderConfig) string {
	if segment == "" {
		return ""
	}
	if cfg.Transliterate {
		segment = slug.Make(segment)
	}
	return config.CleanFileName(segment)
}
