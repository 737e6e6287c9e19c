package composeerr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// german holds translations of display messages.
var german = map[string]string{
	"An error occurred. Please try again later.":                           "Ein Fehler ist aufgetreten. Bitte versuchen Sie es später erneut.",
	"The requested message draft does not exist.":                          "Der angeforderte Nachrichtenentwurf existiert nicht.",
	"The requested attachment does not exist.":                             "Der angeforderte Anhang existiert nicht.",
	"The message draft has been changed in the meantime. Please try again.": "Der Nachrichtenentwurf wurde zwischenzeitlich geändert. Bitte versuchen Sie es erneut.",
	"You reached the maximum number of open message drafts.":               "Sie haben die maximale Anzahl offener Nachrichtenentwürfe erreicht.",
	"Attachments cannot be stored at the moment. Please try again later.":  "Anhänge können derzeit nicht gespeichert werden. Bitte versuchen Sie es später erneut.",
	"The message exceeds the maximum allowed size.":                        "Die Nachricht überschreitet die maximal zulässige Größe.",
	"A field of the message is too long.":                                  "Ein Feld der Nachricht ist zu lang.",
	"No key is available to encrypt or sign the message.":                  "Es ist kein Schlüssel zum Verschlüsseln oder Signieren der Nachricht vorhanden.",
	"Encrypting or signing messages is not available.":                     "Das Verschlüsseln oder Signieren von Nachrichten ist nicht verfügbar.",
	"The folder for shared attachments is missing.":                        "Der Ordner für geteilte Anhänge fehlt.",
	"The folder for shared attachments is inconsistent.":                   "Der Ordner für geteilte Anhänge ist inkonsistent.",
	"The message draft is being edited elsewhere.":                         "Der Nachrichtenentwurf wird an anderer Stelle bearbeitet.",
	"The request contains an invalid identifier.":                          "Die Anfrage enthält einen ungültigen Bezeichner.",
	"The message to reply to is missing.":                                  "Die zu beantwortende Nachricht fehlt.",
	"The message to forward is missing.":                                   "Die weiterzuleitende Nachricht fehlt.",
	"The message could not be sent. Please try again later.":               "Die Nachricht konnte nicht gesendet werden. Bitte versuchen Sie es später erneut.",
}

func init() {
	for key, msg := range german {
		if err := message.SetString(language.German, key, msg); err != nil {
			panic(err)
		}
	}
}
