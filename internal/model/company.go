package model

// CompanyRecord is the canonical view over any provider payload. Every field is optional.
type CompanyRecord struct {
	Name         string `json:"name,omitempty"`
	ShortName    string `json:"short_name,omitempty"`
	INN          string `json:"inn,omitempty"`
	OGRN         string `json:"ogrn,omitempty"`
	KPP          string `json:"kpp,omitempty"`
	Status       string `json:"status,omitempty"`
	Address      string `json:"address,omitempty"`
	Head         string `json:"head,omitempty"`
	HeadPost     string `json:"head_post,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty"`
}

// Title is the best available display name.
func (r CompanyRecord) Title() string {
	if r.Name != "" {
		return r.Name
	}
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.INN
}
