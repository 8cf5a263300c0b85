package browser

import (
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"

	"github.com/systmms/credrotate/pkg/rotation"
)

// query is a locator translated to chromedp selector terms.
type query struct {
	sel  string
	kind rotation.LocatorKind
	by   chromedp.QueryOption
}

func translate(loc rotation.Locator) (query, error) {
	if loc.IsZero() {
		return query{}, fmt.Errorf("empty locator")
	}

	switch loc.By {
	case rotation.ByCSS, "":
		return query{sel: loc.Value, kind: rotation.ByCSS, by: chromedp.ByQuery}, nil
	case rotation.ByXPath:
		return query{sel: loc.Value, kind: rotation.ByXPath, by: chromedp.BySearch}, nil
	case rotation.ByID:
		return query{sel: "#" + loc.Value, kind: rotation.ByID, by: chromedp.ByID}, nil
	case rotation.ByName:
		return query{sel: "[name=" + strconv.Quote(loc.Value) + "]", kind: rotation.ByName, by: chromedp.ByQuery}, nil
	}
	return query{}, fmt.Errorf("unsupported locator kind %q", loc.By)
}
