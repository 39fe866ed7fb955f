package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes why a page refused to serve its content.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockForbidden  BlockType = "forbidden"
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
)

// DetectBlock checks a response for bot protection. Any 403 counts as a
// block; challenge pages served with 200 or 503 are detected by their
// headers and markup.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	cloudflare := resp.Header.Get("cf-ray") != "" ||
		resp.Header.Get("cf-mitigated") != "" ||
		strings.EqualFold(resp.Header.Get("server"), "cloudflare")

	switch resp.StatusCode {
	case http.StatusForbidden:
		if cloudflare {
			return BlockCloudflare
		}
		return BlockForbidden
	case http.StatusServiceUnavailable:
		if cloudflare {
			return BlockCloudflare
		}
	}

	// Challenge markers only matter on small pages; real articles mention
	// captchas too.
	if len(body) > 64*1024 {
		return BlockNone
	}
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") {
		return BlockCloudflare
	}
	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "complete the captcha") ||
		strings.Contains(lower, "complete the recaptcha") {
		return BlockCaptcha
	}
	return BlockNone
}
