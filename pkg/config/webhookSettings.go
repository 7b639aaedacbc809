package config

// WebhookSettings holds the external endpoint URLs notified on lifecycle
// events. A blank URL means the target is disabled, not misconfigured.
type WebhookSettings struct {
	FlowCreate  string `mapstructure:"flow_create" validate:"omitempty,url"`
	FlowCreate2 string `mapstructure:"flow_create2" validate:"omitempty,url"`
	FlowDelete  string `mapstructure:"flow_delete" validate:"omitempty,url"`
	FlowDelete2 string `mapstructure:"flow_delete2" validate:"omitempty,url"`
	FlowStart   string `mapstructure:"flow_start" validate:"omitempty,url"`
	FlowStop    string `mapstructure:"flow_stop" validate:"omitempty,url"`
	UserCreate  string `mapstructure:"user_create" validate:"omitempty,url"`
	UserDelete  string `mapstructure:"user_delete" validate:"omitempty,url"`
	ErrorDelete string `mapstructure:"error_delete" validate:"omitempty,url"`
}
