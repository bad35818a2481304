package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-map/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/catalog>; rel="catalog"`,
		`</api/v1/tiles>; rel="tiles"`,
		`</api/v1/map/state>; rel="state"`,
		`</openapi.json>; rel="service-desc"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/api/v1/catalog": {
		`</api/v1/tiles>; rel="tiles"`,
		`</api/v1/map/state>; rel="state"`,
	},
	"/api/v1/catalog/layers/{id}": {
		`</api/v1/catalog>; rel="collection"`,
	},
	"/api/v1/tiles": {
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/tiles/{archive}": {
		`</api/v1/tiles>; rel="collection"`,
	},
	"/api/v1/map/state": {
		`</api/v1/catalog>; rel="catalog"`,
		`</api/v1/map/events>; rel="events"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers, including the state-dependent actions of Actor bodies.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
