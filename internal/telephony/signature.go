package telephony

import (
	"net/http"
	"strings"

	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhook requests that are not signed with authToken.
// publicBaseURL is the externally visible scheme+host the provider was given.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	validator := twclient.NewRequestValidator(authToken)
	return func(c *gin.Context) {
		params := map[string]string{}
		if c.Request.Method == http.MethodPost {
			if err := c.Request.ParseForm(); err != nil {
				c.AbortWithStatus(http.StatusBadRequest)
				return
			}
			// Twilio callbacks never repeat a field.
			for k, v := range c.Request.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}
		full := base + c.Request.URL.RequestURI()
		sig := c.GetHeader(twilioSignatureHeader)
		if sig == "" || !validator.Validate(full, params, sig) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
