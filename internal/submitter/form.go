// -----------------------------------------------------------------------
// Form Inspection - static analysis of directory submission pages
// -----------------------------------------------------------------------

package submitter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// captchaPattern matches the common captcha provider markers in raw HTML.
var captchaPattern = regexp.MustCompile(`(?i)(g-recaptcha|h-captcha|hcaptcha|data-sitekey|cf-turnstile|captcha)`)

// captchaSelectors are the structural markers checked in the parsed DOM.
var captchaSelectors = []string{
	".g-recaptcha",
	".h-captcha",
	"[data-sitekey]",
	"iframe[src*='recaptcha']",
	"iframe[src*='hcaptcha']",
}

// successKeywords drive the fallback success check for directories without
// configured success indicators.
var successKeywords = []string{
	"thank you",
	"successfully submitted",
	"submission received",
	"listing received",
	"we'll review",
}

// PageInspector analyzes rendered HTML for captchas, form fields and
// post-submit success markers.
type PageInspector struct{}

// NewPageInspector creates a page inspector.
func NewPageInspector() *PageInspector {
	return &PageInspector{}
}

// HasCaptcha reports whether the page carries a captcha challenge. Both
// the raw markup and the parsed DOM are checked: providers differ in
// whether their markers survive rendering.
func (p *PageInspector) HasCaptcha(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return captchaPattern.MatchString(html)
	}

	for _, selector := range captchaSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}

	// Attribute-level markers that no selector catches.
	return captchaPattern.MatchString(doc.Find("head").Text()) ||
		doc.Find("script[src*='recaptcha'], script[src*='hcaptcha']").Length() > 0
}

// HasSuccessIndicator reports whether any configured indicator selector is
// present in the page. With no indicators configured it falls back to
// scanning visible text for common confirmation phrases.
func (p *PageInspector) HasSuccessIndicator(html string, indicators []string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	if len(indicators) > 0 {
		for _, selector := range indicators {
			if doc.Find(selector).Length() > 0 {
				return true
			}
		}
		return false
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, keyword := range successKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// FormField describes one fillable control discovered on a page.
type FormField struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// DiscoverFormFields extracts the fillable controls of the first form on
// the page. Used by catalog tooling to bootstrap field mappings for new
// directories; the submitter itself only follows configured mappings.
func (p *PageInspector) DiscoverFormFields(html string) ([]FormField, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var fields []FormField
	doc.Find("form").First().Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		fieldType, _ := s.Attr("type")
		if fieldType == "hidden" || fieldType == "submit" || fieldType == "button" {
			return
		}
		if fieldType == "" {
			fieldType = goquery.NodeName(s)
		}

		name, hasName := s.Attr("name")
		id, hasID := s.Attr("id")

		var selector string
		switch {
		case hasID:
			selector = "#" + id
		case hasName:
			selector = fmt.Sprintf("[name='%s']", name)
		default:
			return
		}
		if !hasName {
			name = id
		}

		_, required := s.Attr("required")
		fields = append(fields, FormField{
			Name:     name,
			Selector: selector,
			Type:     fieldType,
			Required: required,
		})
	})

	return fields, nil
}
