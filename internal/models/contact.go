package models

// Contact — снимок профиля контакта на момент диспетчеризации.
// Источник — внешний profile-сервис; здесь ничего не персистим.
type Contact struct {
	ID          string
	DisplayName string

	// Глобальный флаг: контакт вообще хочет получать уведомления.
	NotificationsEnabled bool

	// Per-channel handles. Пустое значение = канал не настроен.
	PushToken       string
	TelegramChatID  string
	DiscordChannel  string
	PeerAddress     string
	Email           string
	Phone           string

	// Per-channel opt-ins (provider-specific).
	PushEnabled     bool
	TelegramEnabled bool
	DiscordEnabled  bool
	PeerEnabled     bool
	EmailEnabled    bool
	SMSEnabled      bool

	// SMS платный: шлём только при активной подписке на add-on.
	SMSAddonActive bool

	// Favorite = входит в "круг" владельца; только такие контакты
	// участвуют в экстренной рассылке.
	Favorite bool
}
