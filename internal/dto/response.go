package dto

// APIResponse 是所有 REST 接口的统一响应结构
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// OK 构造成功响应
func OK(message string, data interface{}) APIResponse {
	return APIResponse{Success: true, Message: message, Data: data}
}

// Fail 构造失败响应，data 固定为 null
func Fail(message string) APIResponse {
	return APIResponse{Success: false, Message: message}
}
