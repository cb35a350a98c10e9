// Package docs provides generated OpenAPI documentation.
//
// Tanjia API
//
//	@title			Tanjia API
//	@version		1.0
//	@description	Lead workflow and LLM assistant API: leads, enrichment, replies, outreach, follow-ups and booking webhooks.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/tanjia
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/tanjia/serve.go -o ./swagger --parseDependency --parseInternal
