package domain

// Token is the wire representation of a freshly minted credential. The
// token value is only ever returned once, at issuance; afterwards the
// service stores it verbatim and never echoes it back.
type Token struct {
	Name        string `json:"name"`
	Token       string `json:"token"`
	Description string `json:"description"`
}
