package encoder

var mediaTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"avif": "image/avif",
	"tiff": "image/tiff",
}

// MediaType returns the MIME type of an output format.
func MediaType(format string) string {
	if mt, ok := mediaTypes[normalize(format)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Extension returns the file extension (without dot) for an output format.
func Extension(format string) string {
	switch f := normalize(format); f {
	case "jpeg":
		return "jpg"
	default:
		return f
	}
}
