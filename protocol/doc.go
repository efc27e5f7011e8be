package protocol

// This package implements framing and the wire vocabulary for SLED, the
// line protocol used between a SLED client and a locally spawned SLED server.
//
// This protocol aims to be
//
// - trivial to implement on both ends
// - cheap to parse, a command lookup is a single map access
// - human readable, you can drive a server with telnet
//
// - `Frame`    - One terminator delimited unit of bytes on the wire.
// - `Request`  - A frame sent from a client to a server.
// - `Response` - A frame sent from a server to a client.
//
// === General Syntax
//
// - client frames are terminated by `\r\n`
// - server side decoding accepts a lone `\r` as well as `\r\n`
// - server frames are always terminated by `\r\n`
// - commands are case sensitive and matched byte for byte
//
// There are no request IDs. The n-th response on a connection belongs to the
// n-th request sent on it. Clients may pipeline as many requests as they like
// but they MUST read responses in the order the requests were written.
//
// === Handshake
//
//  ```
//    > HELLO <secret>\r\n
//    < OK\r\n
//  ```
//
// or, when the secret is wrong
//
//  ```
//    > HELLO <wrong>\r\n
//    < ERR\r\n
//  ```
//
// A failed HELLO does not close the connection. Until a HELLO succeeds every
// other frame is dropped without a reply.
//
// === Disconnect
//
//  ```
//    > BYE <secret>\r\n
//    < BYE\r\n
//  ```
//
// The server closes the connection after replying.
//
// === Commands
//
//  ```
//    > RD 3001\r\n
//    < 0\r\n
//
//    > PING\r\n
//    < OK\r\n
//
//    > NOPE\r\n
//    < ?\r\n
//  ```
//
// Commands are looked up in a table that is built once at startup. Anything
// not in the table is answered with `?`.
