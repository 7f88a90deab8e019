// Package driver manages pooled headless-Chrome sessions with stable
// browser identities and anti-automation masking.
package driver

// Fingerprint is the browser identity pinned to one pool slot. A slot
// keeps the same fingerprint for its whole lifetime so the site sees a
// consistent visitor.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
}

// fingerprints are rotated across pool slots by index. All of them are
// current desktop browsers the target site serves without complaint.
var fingerprints = []Fingerprint{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
		AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
		AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
	},
}

// FingerprintFor returns the identity for a pool slot.
func FingerprintFor(slot int) Fingerprint {
	if slot < 0 {
		slot = -slot
	}
	return fingerprints[slot%len(fingerprints)]
}

// stealthScript masks the usual headless-Chrome tells before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['pt-BR', 'pt', 'en-US', 'en'] });
window.chrome = { runtime: {} };
`
