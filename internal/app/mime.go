package app

import (
	"log/slog"
	"mime"
)

// Some minimal container images ship without /etc/mime.types, which leaves
// the embedded assets served as text/plain.
var staticTypes = map[string]string{
	".css": "text/css; charset=utf-8",
	".js":  "text/javascript; charset=utf-8",
}

func init() {
	for ext, typ := range staticTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			slog.Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
		}
	}
}
