package usecase

import (
	"fmt"

	"tripc-agent/internal/domain"
)

type messageSet struct {
	servicesFound   string
	servicesNone    string
	bookingAskName  string
	bookingAskPhone string
	bookingAskEmail string
	bookingReady    string
	bookingSaved    string
	bookingInvalid  string
	bookingFailed   string
	errors          map[ErrorCode]string
	genericError    string

	knowledgeSuggestions []domain.Suggestion
	serviceSuggestions   []domain.Suggestion
	bookingSuggestions   []domain.Suggestion
	retry                domain.Suggestion
}

var messages = map[domain.Language]messageSet{
	domain.LanguageVI: {
		servicesFound:   "Mình tìm được %d địa điểm phù hợp cho bạn:",
		servicesNone:    "Rất tiếc, mình chưa tìm thấy địa điểm phù hợp. Bạn thử mô tả cụ thể hơn nhé.",
		bookingAskName:  "Mình sẽ giúp bạn đặt chỗ. Bạn cho mình xin họ tên người đặt nhé.",
		bookingAskPhone: "Cảm ơn %s! Bạn cho mình xin số điện thoại liên hệ nhé.",
		bookingAskEmail: "Bạn cho mình xin địa chỉ email để gửi xác nhận nhé.",
		bookingReady:    "Mình đã có đủ thông tin: %s, %s, %s. Bạn bấm gửi để hoàn tất yêu cầu đặt chỗ nhé.",
		bookingSaved:    "Yêu cầu đặt chỗ của bạn đã được ghi nhận. Mã tham chiếu: %s.",
		bookingInvalid:  "Thông tin đặt chỗ chưa hợp lệ. Vui lòng kiểm tra họ tên, email và số điện thoại.",
		bookingFailed:   "Hiện chưa thể ghi nhận yêu cầu đặt chỗ. Bạn vui lòng thử lại sau.",
		errors: map[ErrorCode]string{
			ErrorInvalidInput:    "Tin nhắn của bạn trống hoặc quá dài. Bạn vui lòng nhập lại nhé.",
			ErrorInvalidPlatform: "Nền tảng hoặc thiết bị không được hỗ trợ.",
			ErrorRateLimited:     "Hệ thống đang bận, bạn vui lòng thử lại sau ít phút.",
		},
		genericError: "Xin lỗi, mình đang gặp sự cố khi xử lý yêu cầu. Bạn vui lòng thử lại nhé.",
		knowledgeSuggestions: []domain.Suggestion{
			{Label: "Tìm nhà hàng", Detail: "Gợi ý nhà hàng hải sản ở Đà Nẵng", Action: "search_services"},
			{Label: "Đặt chỗ", Detail: "Gửi yêu cầu đặt bàn", Action: "start_booking"},
		},
		serviceSuggestions: []domain.Suggestion{
			{Label: "Đặt chỗ", Detail: "Đặt bàn tại một trong các địa điểm trên", Action: "start_booking"},
			{Label: "Tìm thêm", Detail: "Xem thêm địa điểm khác", Action: "search_services"},
		},
		bookingSuggestions: []domain.Suggestion{
			{Label: "Hủy đặt chỗ", Detail: "Quay lại tìm kiếm", Action: "cancel_booking"},
		},
		retry: domain.Suggestion{Label: "Thử lại", Detail: "Gửi lại tin nhắn", Action: "retry"},
	},
	domain.LanguageEN: {
		servicesFound:   "I found %d places for you:",
		servicesNone:    "Sorry, I could not find a matching place. Try describing it in more detail.",
		bookingAskName:  "I can help you book. What name should the booking be under?",
		bookingAskPhone: "Thanks %s! What phone number can we reach you on?",
		bookingAskEmail: "What email address should we send the confirmation to?",
		bookingReady:    "I have everything I need: %s, %s, %s. Tap submit to send your booking request.",
		bookingSaved:    "Your booking request has been received. Reference: %s.",
		bookingInvalid:  "The booking details are not valid. Please check the name, email and phone number.",
		bookingFailed:   "We could not record your booking request right now. Please try again later.",
		errors: map[ErrorCode]string{
			ErrorInvalidInput:    "Your message is empty or too long. Please try again.",
			ErrorInvalidPlatform: "This platform or device is not supported.",
			ErrorRateLimited:     "We are busy right now. Please try again in a few minutes.",
		},
		genericError: "Sorry, something went wrong while handling your request. Please try again.",
		knowledgeSuggestions: []domain.Suggestion{
			{Label: "Find restaurants", Detail: "Seafood restaurants in Da Nang", Action: "search_services"},
			{Label: "Book", Detail: "Send a booking request", Action: "start_booking"},
		},
		serviceSuggestions: []domain.Suggestion{
			{Label: "Book", Detail: "Book a table at one of these places", Action: "start_booking"},
			{Label: "More", Detail: "Show other places", Action: "search_services"},
		},
		bookingSuggestions: []domain.Suggestion{
			{Label: "Cancel booking", Detail: "Back to search", Action: "cancel_booking"},
		},
		retry: domain.Suggestion{Label: "Try again", Detail: "Send the message again", Action: "retry"},
	},
}

// messagesFor falls back to English for languages without a table.
func messagesFor(lang domain.Language) messageSet {
	if m, ok := messages[lang]; ok {
		return m
	}
	return messages[domain.LanguageEN]
}

func (m messageSet) errorText(code ErrorCode) string {
	if s, ok := m.errors[code]; ok {
		return s
	}
	return m.genericError
}

func (m messageSet) errorSuggestions(code ErrorCode) []domain.Suggestion {
	if code == ErrorInvalidPlatform {
		return []domain.Suggestion{}
	}
	return []domain.Suggestion{m.retry}
}

func (m messageSet) servicesText(n int) string {
	if n == 0 {
		return m.servicesNone
	}
	return fmt.Sprintf(m.servicesFound, n)
}
