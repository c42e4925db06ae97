package model

type SetModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type SetInputRequest struct {
	Text string `json:"text"`
}

// DataURLFile 是 JSON 方式上传的图片，Data 可以是 data URL 或纯 base64
type DataURLFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data" binding:"required"`
}

type StageFilesRequest struct {
	Files []DataURLFile `json:"files" binding:"required,min=1,dive"`
}
