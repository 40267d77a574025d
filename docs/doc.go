// Package docs provides generated OpenAPI documentation.
//
// eraflow API
//
//	@title			eraflow API
//	@version		1.0
//	@description	Remittance extraction pipeline API for processing scanned EOB documents and generating 835-style remittance files.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/evanhollis/eraflow
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/eraflow/serve.go -o ./swagger --parseDependency --parseInternal
