// Package fixtures builds complete, valid sample payloads for every
// transition. The CLI prints them as starting points; tests mutate them.
package fixtures

import (
	"github.com/lucasnoah/mailgate/internal/handoff"
)

// TraceID is the trace identifier used when none is supplied.
const TraceID = "7b0c3f4e-2a51-4d6b-9c8e-1f2a3b4c5d6e"

// Timestamp is a fixed ISO-8601 instant.
const Timestamp = "2026-03-14T09:30:00Z"

// MJML is a small well-formed template.
const MJML = `<mjml>
  <mj-head>
    <mj-title>Spring launch</mj-title>
    <mj-preview>New arrivals are here</mj-preview>
  </mj-head>
  <mj-body>
    <mj-section>
      <mj-column>
        <mj-image src="https://cdn.example.com/hero.png" alt="Spring collection" />
        <mj-text>Fresh picks for the season.<br>Shop before they are gone.</mj-text>
        <mj-button href="https://shop.example.com/spring">Shop now</mj-button>
      </mj-column>
    </mj-section>
  </mj-body>
</mjml>`

// Valid returns a fully populated payload for t stamped with traceID. An empty
// traceID uses TraceID. Unknown transitions yield an empty payload.
func Valid(t handoff.TransitionType, traceID string) handoff.Payload {
	if traceID == "" {
		traceID = TraceID
	}
	var p handoff.Payload
	switch t {
	case handoff.TransitionDataToContent:
		p = dataCollection()
	case handoff.TransitionContentToDesign:
		p = content()
	case handoff.TransitionDesignToQuality:
		p = design()
	case handoff.TransitionQualityToDelivery:
		p = quality()
	default:
		return handoff.Payload{}
	}
	p["trace_id"] = traceID
	p["timestamp"] = Timestamp
	return p
}

// ForStage returns the valid payload a stage hands to its successor.
func ForStage(s handoff.Stage, traceID string) handoff.Payload {
	t, ok := handoff.TransitionFor(s)
	if !ok {
		return handoff.Payload{"trace_id": traceID, "timestamp": Timestamp, "delivered": true}
	}
	return Valid(t, traceID)
}

func dataCollection() handoff.Payload {
	return handoff.Payload{
		"collected_data": map[string]any{
			"campaign_brief": map[string]any{
				"topic":    "Spring collection launch",
				"audience": "returning customers",
				"goal":     "drive first-week sales",
			},
			"brand_guidelines": map[string]any{
				"brand_name":    "Acme Outfitters",
				"primary_color": "#1A73E8",
				"tone":          "friendly",
			},
			"asset_sources": []any{"https://figma.example.com/file/abc123"},
		},
	}
}

func content() handoff.Payload {
	return handoff.Payload{
		"content_package": map[string]any{
			"complete_content": map[string]any{
				"subject":   "Spring arrivals are here",
				"preheader": "Fresh picks for the season",
				"body":      "Our spring collection just landed. Find your new favorites today.",
				"cta":       "Shop now",
			},
			"content_metadata": map[string]any{
				"word_count": 11.0,
				"language":   "en",
			},
		},
		"design_requirements": map[string]any{
			"template_type": "promotional",
		},
	}
}

func design() handoff.Payload {
	return handoff.Payload{
		"email_package": map[string]any{
			"html_content": "<html><body><p>Fresh picks for the season.</p></body></html>",
			"mjml_source":  MJML,
			"inline_css":   "p{color:#1A73E8}",
			"asset_urls":   []any{"https://cdn.example.com/hero.png"},
		},
		"rendering_metadata": map[string]any{
			"template_type":        "promotional",
			"file_size_bytes":      42000.0,
			"render_time_ms":       850.0,
			"optimization_applied": []any{"css_inlining", "image_compression"},
		},
		"design_artifacts": map[string]any{
			"figma_file": "abc123",
		},
		"original_content": map[string]any{
			"subject": "Spring arrivals are here",
		},
	}
}

func quality() handoff.Payload {
	return handoff.Payload{
		"quality_package": map[string]any{
			"validated_html":    "<html><body><p>Fresh picks for the season.</p></body></html>",
			"quality_score":     85.0,
			"validation_status": "passed",
			"optimized_assets":  []any{"https://cdn.example.com/hero.webp"},
		},
		"test_results": map[string]any{
			"html_validation": map[string]any{
				"w3c_compliant": true,
				"errors":        []any{},
				"warnings":      []any{},
			},
			"css_validation": map[string]any{
				"valid":  true,
				"errors": []any{},
			},
			"email_client_compatibility": map[string]any{
				"clients": map[string]any{
					"gmail":      95.0,
					"outlook":    82.0,
					"apple_mail": 98.0,
					"yahoo":      90.0,
				},
			},
		},
		"accessibility_report": map[string]any{
			"wcag_aa_compliant": true,
			"issues":            []any{},
			"score":             92.0,
		},
		"performance_analysis": map[string]any{
			"file_size_bytes": 42000.0,
			"load_time_ms":    900.0,
			"image_count":     1.0,
		},
		"spam_analysis": map[string]any{
			"spam_score": 1.5,
			"triggers":   []any{},
		},
	}
}
