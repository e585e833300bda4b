package constants

// Media size limits in bytes
const (
	BytesPerMegabyte    = 1024 * 1024
	MaxImageBytes       = 5 * BytesPerMegabyte
	MaxVideoBytes       = 16 * BytesPerMegabyte
	MaxAudioBytes       = 16 * BytesPerMegabyte
	MaxDocumentBytes    = 100 * BytesPerMegabyte
	MaxStickerBytes     = 500 * 1024
	DefaultMediaExt     = ".bin"
	DefaultMimeType     = "application/octet-stream"
	MediaShortIDLength  = 8
	DataURLBase64Marker = ";base64,"
)

// MediaSizeLimits maps a WhatsApp media kind to its maximum payload size.
var MediaSizeLimits = map[string]int64{
	"image":    MaxImageBytes,
	"video":    MaxVideoBytes,
	"audio":    MaxAudioBytes,
	"document": MaxDocumentBytes,
	"sticker":  MaxStickerBytes,
}

// MimeTypeToExtension maps MIME types to their primary file extensions
var MimeTypeToExtension = map[string]string{
	// Image formats
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",

	// Video formats
	"video/mp4":  ".mp4",
	"video/3gpp": ".3gp",

	// Document formats
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/plain": ".txt",

	// Audio formats
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/aac":  ".aac",
	"audio/amr":  ".amr",
	"audio/mp4":  ".m4a",
}

// ExtensionToMimeType is the reverse lookup used when a stored key is sent without a declared type.
var ExtensionToMimeType = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".3gp":  "video/3gpp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".amr":  "audio/amr",
	".m4a":  "audio/mp4",
}

// ExtensionForMime returns the file extension for a MIME type, ignoring parameters such as "; codecs=opus".
func ExtensionForMime(mime string) string {
	for i := 0; i < len(mime); i++ {
		if mime[i] == ';' {
			mime = mime[:i]
			break
		}
	}
	if ext, ok := MimeTypeToExtension[mime]; ok {
		return ext
	}
	return DefaultMediaExt
}
