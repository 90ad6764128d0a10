package server

//go:generate swag init -g internal/server/swagger.go -o docs/swagger

// @title Site Scanning API
// @version 1.0
// @description Runs federal website scans and serves their stored results.
// @contact.name Site Scanning Maintainers
// @contact.url https://github.com/danielnaab/site-scanning-engine
// @BasePath /
