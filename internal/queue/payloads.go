package queue

// Message types carried on the queues.
const (
	TypeExtract   = "video:extract"
	TypeDownload  = "video:download"
	TypeSubscribe = "channel:subscribe"
	TypeProgress  = "video:progress"
)

// ExtractPayload asks for metadata extraction of one video URL. Manual
// requests bypass the dedup and retry-threshold suppressions: a human
// asking for work always gets an attempt.
type ExtractPayload struct {
	URL            string `json:"url"`
	Subscribed     bool   `json:"subscribed"`
	OnlyExtract    bool   `json:"only_extract"`
	SubscriptionID int64  `json:"subscription_id"`
	Manual         bool   `json:"manual"`
}

func NewExtractMessage(p ExtractPayload) (*Message, error) {
	return NewMessage(TypeExtract, p)
}

// DownloadPayload is the task snapshot handed from extraction to the
// download stage. The consumer re-reads the row before acting; the
// snapshot is routing context, not authority.
type DownloadPayload struct {
	TaskID         int64  `json:"task_id"`
	VideoID        int64  `json:"video_id"`
	SubscriptionID int64  `json:"subscription_id"`
	URL            string `json:"url"`
	Domain         string `json:"domain"`
	Status         string `json:"status"`
	Retry          int    `json:"retry"`
}

func NewDownloadMessage(p DownloadPayload) (*Message, error) {
	return NewMessage(TypeDownload, p)
}

// SubscribePayload asks to start tracking a channel or feed.
type SubscribePayload struct {
	URL    string `json:"url"`
	UserID int64  `json:"user_id"`
}

func NewSubscribeMessage(p SubscribePayload) (*Message, error) {
	return NewMessage(TypeSubscribe, p)
}

// ProgressPayload reports playback position from a client.
type ProgressPayload struct {
	VideoID       int64   `json:"video_id"`
	ChannelID     int64   `json:"channel_id"`
	WatchDuration float64 `json:"watch_duration"`
	LastPosition  float64 `json:"last_position"`
	TotalDuration float64 `json:"total_duration"`
}

func NewProgressMessage(p ProgressPayload) (*Message, error) {
	return NewMessage(TypeProgress, p)
}
