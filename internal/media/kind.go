package media

import "strings"

type Kind string

const (
	KindWAV     Kind = "wav"
	KindMP3     Kind = "mp3"
	KindWebM    Kind = "webm"
	KindOGG     Kind = "ogg"
	KindM4A     Kind = "m4a"
	KindUnknown Kind = ""
)

func (k Kind) MIMEType() string {
	switch k {
	case KindWAV:
		return "audio/wav"
	case KindMP3:
		return "audio/mpeg"
	case KindWebM:
		return "audio/webm"
	case KindOGG:
		return "audio/ogg"
	case KindM4A:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func (k Kind) Ext() string {
	if k == KindUnknown {
		return ".bin"
	}
	return "." + string(k)
}

// KindForContentType maps a content type, parameters included, to a Kind.
func KindForContentType(ct string) Kind {
	ct = strings.ToLower(strings.TrimSpace(ct))
	base := strings.TrimSpace(strings.Split(ct, ";")[0])
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return KindWAV
	case "audio/mpeg", "audio/mp3":
		return KindMP3
	case "audio/webm", "video/webm":
		return KindWebM
	case "audio/ogg", "application/ogg":
		return KindOGG
	case "audio/mp4", "audio/x-m4a", "video/mp4":
		return KindM4A
	default:
		return KindUnknown
	}
}

func KindForFilename(fn string) Kind {
	fn = strings.ToLower(fn)
	switch {
	case strings.HasSuffix(fn, ".wav"):
		return KindWAV
	case strings.HasSuffix(fn, ".mp3"):
		return KindMP3
	case strings.HasSuffix(fn, ".webm"):
		return KindWebM
	case strings.HasSuffix(fn, ".ogg"):
		return KindOGG
	case strings.HasSuffix(fn, ".m4a"), strings.HasSuffix(fn, ".mp4"):
		return KindM4A
	default:
		return KindUnknown
	}
}
