package models

// messagesAR is the user-facing text for every error code. The bot and the
// web API both read from it.
var messagesAR = map[ErrorCode]string{
	CodeInvalidInput:          "البيانات المرسلة غير صحيحة، يرجى التحقق منها والمحاولة مرة أخرى.",
	CodeProjectNotFound:       "المشروع غير موجود أو غير متاح حالياً.",
	CodeStudentNotFound:       "لم يتم العثور على اسمك في قائمة طلاب الشعبة. تأكد من كتابة اسمك الرباعي كما هو مسجل.",
	CodeTelegramNotConfigured: "لم يتم ربط مجموعة تيليجرام بهذه الشعبة بعد. يرجى التواصل مع المعلم.",
	CodeAlreadyActiveOTP:      "لديك رمز تحقق فعّال بالفعل لهذا المشروع.",
	CodeOTPNotFound:           "طلب التحقق غير موجود. يرجى البدء من جديد.",
	CodeOTPExpired:            "انتهت صلاحية رمز التحقق. يرجى طلب رمز جديد.",
	CodeOTPAlreadyUsed:        "تم استخدام هذا الرمز مسبقاً.",
	CodeCodeMismatch:          "رمز التحقق غير صحيح.",
	CodeTokenInvalid:          "رابط التسليم غير صالح أو منتهي الصلاحية. يرجى البدء من جديد.",
	CodeFileTooLarge:          "حجم الملف أكبر من الحد المسموح به.",
	CodeFileTypeForbidden:     "نوع الملف غير مسموح به لهذا المشروع.",
	CodeFileNameUnsafe:        "اسم الملف غير صالح.",
	CodeDeadlineExpired:       "انتهى موعد تسليم المشروع.",
	CodeBotForbidden:          "البوت ليس عضواً في مجموعة الشعبة. يرجى التواصل مع المعلم.",
	CodeRateLimited:           "عدد كبير من المحاولات. يرجى الانتظار قليلاً ثم المحاولة مرة أخرى.",
	CodeUpstreamTimeout:       "انتهت مهلة الاتصال. يرجى المحاولة مرة أخرى.",
	CodeInternalError:         "حدث خطأ غير متوقع. يرجى المحاولة لاحقاً.",
}

func MessageFor(code ErrorCode) string {
	if msg, ok := messagesAR[code]; ok {
		return msg
	}
	return messagesAR[CodeInternalError]
}
