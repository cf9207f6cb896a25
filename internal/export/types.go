package export

const (
	FormatEDL   = "edl"
	FormatVTT   = "vtt"
	FormatAudio = "audio"
)

var Formats = map[string]bool{
	FormatEDL:   true,
	FormatVTT:   true,
	FormatAudio: true,
}

type ExportRequest struct {
	Format    string  `json:"format"`
	FrameRate float64 `json:"frame_rate"`
	// OutputDir writes the export to disk instead of returning it.
	OutputDir string `json:"output_dir,omitempty"`
}

type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ItemCount  int    `json:"item_count"`
}

// AudioSource yields encoded dialogue audio by dialogue id.
type AudioSource interface {
	Get(dialogueID string) ([]byte, bool)
}

// FileName is the download name for a project export.
func FileName(title, format string) string {
	name := SanitizeName(title, 120)
	if name == "" {
		name = "marriage_signal"
	}
	switch format {
	case FormatAudio:
		return name + "_dialogues.zip"
	default:
		return name + "." + format
	}
}

func ContentType(format string) string {
	switch format {
	case FormatEDL:
		return "text/plain; charset=utf-8"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	default:
		return "application/zip"
	}
}
