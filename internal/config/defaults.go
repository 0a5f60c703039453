package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Telegram: TelegramConfig{
			Token:              "${BOT_TOKEN}",
			BatchLimit:         10,
			PollTimeoutSeconds: 10,
			IdleSleepMS:        100,
			RetrySleepSeconds:  5,
		},
		Store: StoreConfig{
			DBPath: "~/.onboardbot/onboardbot.db",
		},
		Exchange: ExchangeConfig{
			BaseURL:               "${BASE_URL}",
			APIKey:                "${API_KEY}",
			SecretKey:             "${SECRET_KEY}",
			PageSize:              100,
			PageDelayMS:           300,
			TimeoutSeconds:        30,
			KnownPolicy:           "refresh",
			ConsecutiveKnownLimit: 10,
		},
		Reconcile: ReconcileConfig{
			Threshold:       20,
			IntervalSeconds: 10,
		},
		Conversation: ConversationConfig{
			InstructionImage: "./uid.jpg",
		},
	}
}
