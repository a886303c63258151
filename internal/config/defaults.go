package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			Host:   "127.0.0.1",
			Port:   8743,
			WSPort: 8744,
			WSPath: "/ws",
		},
		Warnings: WarningsConfig{
			Approval:       true,
			Listing:        true,
			HashSignatures: true,
		},
		Popup: PopupConfig{
			Headless: false,
		},
		Settings: SettingsConfig{
			DBPath: "~/.walletgate/walletgate.db",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
