// Package file provides a buffered file sink for relay output.
//
// Output wraps an *os.File in a bufio.Writer. Files are truncated unless
// Config.Append is set, and Config.Sync requests an fsync before Close so the
// bytes are on stable storage when Close returns.
//
//	out, err := file.NewOutput(file.Config{Path: "DST.bin", Sync: true}, logger)
//	if err != nil {
//	    return err
//	}
//	defer out.Close()
//	_, err = io.Copy(out, src)
package file
