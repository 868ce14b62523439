/*
Package streaming protects live audio streams from slow or vanished clients.

A stream request runs two child processes whose output is copied to the
client. If the client stops reading, the copy blocks, the pipes fill, and the
processes stall while holding their resources. Sink sits between the copy
and the http.ResponseWriter and turns every way a client can fail into a
write error:

  - a single write that blocks longer than WriteTimeout
  - no successful write for IdleTimeout
  - the request context ending (ErrClientGone)
  - the whole stream exceeding MaxDuration

Each of these makes the copy fail, which cancels the process chain.

# Usage

	sink := streaming.NewSink(r.Context(), w, streaming.DefaultSinkConfig())
	defer sink.Close()

	_, err := io.Copy(sink, encoderStdout)
	if errors.Is(err, streaming.ErrClientGone) {
		// nothing to report, the caller left
	}

Writes are flushed after every chunk when the underlying writer implements
http.Flusher, so audio reaches the client as the encoder produces it rather
than when the response buffer fills.
*/
package streaming
