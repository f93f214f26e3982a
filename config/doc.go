// Package config loads the client configuration from a TOML file:
//
//	[rabbitmq]
//	host = "192.168.1.10"
//	port = 5672
//	user = "master"
//	password = "secret"
//	management_port = 15672
//	connect_timeout = "10s"
//
//	[client]
//	default_timeout = "3s"
//	target = "living,bedroom"
//	worker_version = "1.4.0"
//
// Missing keys keep their Default value. HOMECODE_RABBITMQ_HOST, _PORT,
// _VHOST, _USER, _PASSWORD, _MANAGEMENT_PORT, _CONNECT_TIMEOUT and _EXCHANGE
// override the file.
package config
