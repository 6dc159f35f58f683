// Package tuya implements the subset of the Tuya local LAN protocol (version
// 3.3) needed to switch lighting devices.
//
// Every command travels in a frame:
//
//	000055AA | seq | cmd | len | payload | crc32 | 0000AA55
//
// CONTROL payloads are the JSON document {"devId","uid","t","dps"} encrypted
// with AES-128-ECB under the device's 16-byte local key and prefixed with the
// "3.3" version header. Replies from the device carry a return code after the
// length field.
//
// Connections are short-lived: callers Dial, send one or two commands and
// Close.
//
//	client := tuya.NewClient(5 * time.Second)
//	bulb, err := client.DialBulb(ctx, creds, tuya.ProfileB)
//	if err != nil {
//	    return err
//	}
//	defer bulb.Close()
//	return bulb.TurnOn(ctx)
package tuya
