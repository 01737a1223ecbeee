package main

import (
	"errors"
	"log"
	"net/http"

	"tikiti/src/types"
	"tikiti/src/utils"

	"github.com/gin-gonic/gin"
)

// mpesaAck is the only body the webhook ever returns. Daraja treats anything
// else as a delivery failure and redelivers, so the ack must not depend on
// whether reconciliation succeeded.
var mpesaAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

func mpesaWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/mpesa", func(ctx *gin.Context) {
		var body types.StkCallbackBody
		bindErr := ctx.ShouldBindJSON(&body)

		// Flush the ack before touching the database. Daraja redelivers and
		// eventually blacklists callback URLs that answer slowly, so ack
		// latency must not depend on reconciliation's locks and queries.
		ctx.JSON(http.StatusOK, mpesaAck)
		ctx.Writer.Flush()

		if bindErr != nil {
			log.Printf("[MpesaWebhook] Error parsing callback: %s\n", bindErr.Error())
			return
		}
		cb := body.Body.StkCallback
		log.Printf("[MpesaWebhook] CheckoutRequestID=%s ResultCode=%d\n", cb.CheckoutRequestID, cb.ResultCode)

		result := types.FromStkCallback(&cb)
		if err := utils.ReconcilePayment(result); err != nil {
			if errors.Is(err, utils.ErrUnknownCorrelationID) {
				log.Printf("[MpesaWebhook] Unknown CheckoutRequestID: %s\n", cb.CheckoutRequestID)
			} else {
				log.Printf("[MpesaWebhook] Error reconciling payment: %s\n", err.Error())
			}
		}
	})
	return apiv1
}
