package market

import "strings"

// DefaultSectors maps sector names to base-asset prefixes. The trailing
// separator keeps BONK/ from matching BONKETH-style bases.
func DefaultSectors() map[string][]string {
	return map[string][]string{
		"DeFi":   {"UNI/", "AAVE/", "COMP/", "SUSHI/", "YFI/", "CAKE/", "CRV/"},
		"Layer2": {"MATIC/", "ARB/", "OP/", "IMX/", "ZK/", "METIS/", "SCROLL/"},
		"AI":     {"FET/", "OCEAN/", "RNDR/", "GRT/", "AGIX/", "NMR/"},
		"GameFi": {"AXS/", "SAND/", "MANA/", "ENJ/", "GALA/", "ILV/", "MAGIC/"},
		"Meme":   {"DOGE/", "SHIB/", "PEPE/", "FLOKI/", "BONK/", "WIF/"},
	}
}

// SectorOf returns the sector a symbol belongs to, or "" when it is not
// mapped.
func SectorOf(sectors map[string][]string, symbol string) string {
	for sector, prefixes := range sectors {
		for _, prefix := range prefixes {
			if strings.HasPrefix(symbol, prefix) {
				return sector
			}
		}
	}
	return ""
}
