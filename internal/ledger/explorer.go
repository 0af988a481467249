package ledger

import "strings"

// DefaultExplorerURL is the XRPL test network explorer.
const DefaultExplorerURL = "https://testnet.xrpl.org"

// Explorer builds block explorer links.
type Explorer struct {
	base string
}

// NewExplorer creates an Explorer rooted at base.
func NewExplorer(base string) Explorer {
	if base == "" {
		base = DefaultExplorerURL
	}
	return Explorer{base: strings.TrimRight(base, "/")}
}

// Base is the explorer root.
func (e Explorer) Base() string { return e.base }

// TxURL links to a transaction. An empty hash yields an empty link.
func (e Explorer) TxURL(hash string) string {
	if hash == "" {
		return ""
	}
	return e.base + "/transactions/" + hash
}

// AccountURL links to an account.
func (e Explorer) AccountURL(address string) string {
	if address == "" {
		return ""
	}
	return e.base + "/accounts/" + address
}
