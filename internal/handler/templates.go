package handler

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/DukeRupert/posadmin/internal/csrf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateFuncs returns a FuncMap with custom template functions
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		// Date/Time functions
		"year": func() int {
			return time.Now().Year()
		},
		"formatDateTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("Jan 2, 2006 3:04 PM")
		},
		"timeAgo": timeAgo,

		// String functions
		"lower": strings.ToLower,
		"title": func(v any) string {
			return cases.Title(language.English).String(fmt.Sprint(v))
		},

		// Money is carried in minor units.
		"money": formatMoney,

		// Conditional/Logic functions
		"default": func(defaultVal, val any) any {
			if val == nil || val == "" || val == 0 {
				return defaultVal
			}
			return val
		},

		// Form helpers
		"csrfField": func(token string) template.HTML {
			return template.HTML(fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`,
				csrf.FormFieldName, template.HTMLEscapeString(token)))
		},

		// Badge helpers. They accept any to handle custom string types like
		// domain.OrderStatus.
		"statusColor": func(status any) string {
			switch fmt.Sprint(status) {
			case "open":
				return "badge badge-open"
			case "paid":
				return "badge badge-paid"
			case "refunded", "cancelled":
				return "badge badge-muted"
			default:
				return "badge"
			}
		},
		"toastColor": func(severity string) string {
			switch severity {
			case "success":
				return "toast toast-success"
			case "error":
				return "toast toast-error"
			case "warning":
				return "toast toast-warning"
			default:
				return "toast toast-info"
			}
		},
	}
}

// formatMoney renders cents as "12.34 USD". Negative amounts keep their sign.
func formatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	s := fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
	if currency != "" {
		s += " " + strings.ToUpper(currency)
	}
	return s
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("Jan 2, 2006")
	}
}
