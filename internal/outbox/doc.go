// Package outbox is the single path from the bot to the room.
//
// Producers call Queue.Enqueue from the event loop. Priority messages jump
// ahead of every waiting Normal message but stay FIFO among themselves. The
// drain sends one message at a time and keeps at least the message's class
// delay between consecutive sends. A failed send is logged and the drain
// moves on; nothing is retried. With WithAsyncSend the transport call runs
// off the loop and only its completion is posted back.
package outbox
