package domain

// ClickedElementInfo describes the element the user clicked in the preview.
// All fields except TagName may be empty.
type ClickedElementInfo struct {
	TagName   string `json:"tagName"`
	ID        string `json:"id"`
	ClassName string `json:"className"`
	InnerText string `json:"innerText"`
}
