// Package blockdetect recognises bot-protection interstitials so that a
// challenge page is reported as a failed fetch instead of being mined for
// images. It never attempts to get past one.
package blockdetect

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether resp is a block or challenge page and, if so,
// which vendor served it.
type Detector func(resp *Response) (detected bool, vendor string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs resp through detectors in order and returns the first vendor
// that matched.
func Analyze(resp *Response, detectors []Detector) (bool, string) {
	if resp == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, vendor := d(resp); detected {
			return true, vendor
		}
	}
	return false, ""
}

func server(resp *Response) string {
	return strings.ToLower(resp.Header.Get("Server"))
}

func detectCloudflare(resp *Response) (bool, string) {
	// The JS challenge is served with 200 on some zones.
	if bytes.Contains(resp.Body, []byte("<title>Just a moment...</title>")) &&
		bytes.Contains(resp.Body, []byte("challenge-platform")) {
		return true, "Cloudflare"
	}

	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(server(resp), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(resp.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(resp.Body, []byte("cf-turnstile")) ||
		bytes.Contains(resp.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(resp), "akamai") {
		return true, "Akamai"
	}
	if bytes.Contains(resp.Body, []byte("Reference #")) && bytes.Contains(resp.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(resp), "datadome") ||
		resp.Header.Get("X-DataDome") != "" ||
		resp.Header.Get("X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(resp.Body, []byte("geo.captcha-delivery.com")) {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(resp *Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if resp.Header.Get("X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bytes.Contains(resp.Body, []byte("client.perimeterx.net")) ||
		bytes.Contains(resp.Body, []byte("px-captcha")) ||
		bytes.Contains(resp.Body, []byte("_pxBlock")) {
		return true, "PerimeterX"
	}
	return false, ""
}
