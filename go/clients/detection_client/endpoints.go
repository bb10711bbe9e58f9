package detection_client

const (
	DetectEndpoint = "/model/detect"

	// Multipart field and filename the service expects.
	FrameField    = "file"
	FrameFilename = "frame.jpg"
)
