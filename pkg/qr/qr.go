package qr

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
)

const defaultSize = 256

// LPAString assembles the GSMA LPA activation string an eSIM-capable device
// scans to download its profile: LPA:1$<host>$<iccid>$<code>. The code
// segment is appended only when present.
func LPAString(host, iccid, activationCode string) string {
	parts := []string{"LPA:1", strings.TrimSpace(host), strings.TrimSpace(iccid)}
	if code := strings.TrimSpace(activationCode); code != "" {
		parts = append(parts, code)
	}
	return strings.Join(parts, "$")
}

// EncodePNG renders the payload as a QR code PNG and returns it base64
// encoded, ready to embed in an email or API response.
func EncodePNG(payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "qr payload is required")
	}

	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode qr payload")
	}

	scaled, err := barcode.Scale(code, defaultSize, defaultSize)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scale qr code")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render qr png")
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
