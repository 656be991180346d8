package main

import (
	"os"

	"github.com/onurcolak/whatsapp-automation-service/cmd"
)

// @title WhatsApp Automation Service API
// @version 1.0
// @description Scheduled WhatsApp campaigns, inbound automations and delivery tracking
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-wa-auth-key

// @schemes http https
func main() {
	os.Exit(cmd.Execute())
}
