package clientmqtt

import "time"

type MQTTConf struct {
	ClientID     string // ClientID - уникальное имя клиента для брокеров.
	Schema       string // Schema - тип подключения.
	Host         string // Host - адрес MQTT сервера.
	Port         string // Port - порт MQTT сервера.
	User         string // User - логин для подключения к MQTT серверу.
	Password     string // Password - пароль для подключения к MQTT серверу.
	Qos          byte   // Qos - качество обслуживания для подписки и публикации.
	CommandTopic string // CommandTopic - топик входящих команд.
	StatusTopic  string // StatusTopic - топик результатов, пусто - не публиковать.
}

// Payload is the JSON form of a command message. Plain text payloads are also
// accepted, one command per line.
type Payload struct {
	Command  string   `json:"command,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

// Result is published on the status topic after every command.
type Result struct {
	Command string    `json:"command"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}
