// Package tradesocket provides a resilient realtime channel between a trading
// terminal and its server.
//
// The Client keeps one WebSocket alive with a heartbeat, reconnects with
// exponential backoff after abnormal closes and holds outbound traffic until
// the server confirms the session. The Store sits on top of it and keeps
// handler registrations and messages made while disconnected.
//
// Example:
//
//	store := tradesocket.NewStore("wss://terminal.example/ws",
//		tradesocket.WithTokenSource(tradesocket.StaticToken(token)),
//		tradesocket.WithLogger(logger),
//	)
//	defer store.Disconnect()
//
//	store.OnMessage("quote", func(m tradesocket.Message) {
//		var q Quote
//		_ = m.Decode(&q)
//	})
//	store.SetUserID("42")
//	store.Initialize(ctx, "")
//
//	store.SendMessage(tradesocket.SubscribeQuotes("BTCUSDT", "1m"))
package tradesocket
