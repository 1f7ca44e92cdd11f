package browser

import (
	"mkprocessor/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// goqueryElement adapts one matched selection node to the Element
// interface. Both backends hand out parsed-document handles, the
// difference between them is only in how the document is acquired.
type goqueryElement struct {
	sel *goquery.Selection
}

func (e goqueryElement) Text() string {
	return htmlutil.CleanText(e.sel.Text())
}

func (e goqueryElement) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

func elementsFromDoc(doc *goquery.Document, locator string) []Element {
	var out []Element
	doc.Find(locator).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, goqueryElement{sel: sel})
	})
	return out
}
