package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                        "Yêu cầu không hợp lệ",
	"failed to generate token":               "Lỗi tạo mã xác thực",
	"missing authorization token":            "Thiếu mã xác thực",
	"invalid token":                          "Mã xác thực không hợp lệ",
	"failed to validate user":                "Lỗi xác thực người dùng",
	"user not found":                         "Không tìm thấy người dùng",
	"unauthorized":                           "Không có quyền truy cập",
	"forbidden":                              "Bạn không có quyền thực hiện thao tác này",
	"invalid user id":                        "Mã người dùng không hợp lệ",
	"failed to fetch channels":               "Lỗi tải danh sách kênh",
	"failed to fetch messages":               "Lỗi tải tin nhắn",
	"failed to create message":               "Lỗi gửi tin nhắn",
	"failed to create channel":               "Lỗi tạo cuộc trò chuyện",
	"failed to search users":                 "Lỗi tìm kiếm người dùng",
	"failed to send friend request":          "Lỗi gửi lời mời kết bạn",
	"failed to fetch friend requests":        "Lỗi tải lời mời kết bạn",
	"failed to accept friend request":        "Lỗi chấp nhận lời mời kết bạn",
	"failed to reject friend request":        "Lỗi từ chối lời mời kết bạn",
	"friend request not found":               "Không tìm thấy lời mời kết bạn",
	"only the receiver can answer a request": "Chỉ người nhận mới có thể trả lời lời mời",
	"cannot create a channel with yourself":  "Không thể tạo cuộc trò chuyện với chính mình",
	"assistant messages are not stored":      "Tin nhắn trợ lý AI không được lưu",
	"message content is required":            "Nội dung tin nhắn là bắt buộc",
	"invalid message type":                   "Loại tin nhắn không hợp lệ",
	"invalid sender type":                    "Loại người gửi không hợp lệ",
	"not a channel member":                   "Bạn không phải thành viên của kênh này",
	"channel not found":                      "Không tìm thấy kênh",
	"failed to update status":                "Lỗi cập nhật trạng thái",
	"websocket upgrade failed":               "Lỗi kết nối websocket",
	"rate limiter error":                     "Lỗi giới hạn yêu cầu",
	"rate limit exceeded":                    "Quá nhiều yêu cầu, vui lòng thử lại sau",
	"internal server error":                  "Lỗi máy chủ nội bộ",
	"not found":                              "Không tìm thấy",
	"password must be at least 6 characters": "Mật khẩu phải có ít nhất 6 ký tự",
	"full name is required":                  "Họ tên là bắt buộc",
	"username already exists":                "Tên đăng nhập đã tồn tại",
	"invalid username or password":           "Sai tên đăng nhập hoặc mật khẩu",
	"assistant api key is missing":           "Thiếu khóa API cho trợ lý AI",
	"assistant connection error":             "Lỗi kết nối AI.",
	"friend request already answered":        "Lời mời kết bạn đã được trả lời",

	"username can only contain letters, numbers, and underscores": "Tên đăng nhập chỉ được chứa chữ cái, số và dấu gạch dưới",
	"username must be between 3 and 32 characters":                "Tên đăng nhập phải từ 3 đến 32 ký tự",
	"cannot send a friend request to yourself":                    "Không thể gửi lời mời kết bạn cho chính mình",
}

var prefixTranslations = map[string]string{
	"failed to hash password:":   "Lỗi xử lý mật khẩu",
	"failed to register user:":   "Lỗi đăng ký người dùng",
	"failed to get user id:":     "Lỗi lấy mã người dùng",
	"failed to query user:":      "Lỗi truy vấn người dùng",
	"failed to generate token:":  "Lỗi tạo mã xác thực",
	"failed to sign token:":      "Lỗi ký mã xác thực",
	"failed to parse token:":     "Mã xác thực không hợp lệ",
	"unexpected signing method:": "Phương thức ký không hợp lệ",
	"gemini:":                    "Lỗi kết nối AI.",
}

// Translate returns the Vietnamese text for an English message, or the message
// itself when no entry matches.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
